package commands

import (
	"database/sql"
	"fmt"

	"github.com/tortoisewolfe/securemsg/auth"
	"github.com/tortoisewolfe/securemsg/ccc/db"
	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/config"
	"github.com/tortoisewolfe/securemsg/conversations"
	"github.com/tortoisewolfe/securemsg/encryption"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/keymanagement"
	"github.com/tortoisewolfe/securemsg/legacykeys"
	"github.com/tortoisewolfe/securemsg/messages"
	"github.com/tortoisewolfe/securemsg/userkeys"
)

// kdfParams are the Argon2id cost parameters every key is derived with.
// Changing them would make every derived key underivable.
var kdfParams = keyderivation.DefaultParams()

// app is the dependency graph shared by all subcommands
type app struct {
	cfg    *config.Config
	logger logging.Logger
	db     *sql.DB

	userKeys *userkeys.SQLiteUserKeyRepository
	secrets  *conversations.SQLiteSecretRepository
	legacy   *legacykeys.FileStore
	wrapper  encryption.KeyWrapper
	deriver  *keyderivation.Service

	conversations conversations.ConversationService
	messages      messages.MessageService
}

func newApp(cfg *config.Config, logger logging.Logger) (*app, error) {
	dbConn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: dbConn}

	// Set up repositories
	if a.userKeys, err = userkeys.NewSQLiteUserKeyRepository(dbConn); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("failed to create user key repository: %w", err)
	}
	if a.secrets, err = conversations.NewSQLiteSecretRepository(dbConn); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("failed to create conversation secret repository: %w", err)
	}
	messageRepo, err := messages.NewSQLiteMessageRepository(dbConn)
	if err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("failed to create message repository: %w", err)
	}
	if a.legacy, err = legacykeys.NewFileStore(cfg.LegacyKeyDir); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("failed to open legacy key store: %w", err)
	}

	// Set up services
	encryptor := encryption.NewAESEncryptor()
	a.wrapper = encryption.NewECIESWrapper(encryptor)
	a.deriver = keyderivation.NewService(kdfParams)
	a.conversations = conversations.NewConversationService(logger, a.secrets, a.userKeys, encryptor, a.wrapper)
	a.messages = messages.NewMessageService(logger, messageRepo, a.conversations, encryptor)

	return a, nil
}

// manager builds a key manager that resolves the signed-in user through sessions
func (a *app) manager(sessions auth.SessionProvider) *keymanagement.Manager {
	return keymanagement.NewManager(a.logger, sessions, a.deriver, a.userKeys, a.secrets, a.legacy, a.wrapper, a.cfg.ReencryptWorkers)
}

func (a *app) Close() error {
	return a.db.Close()
}
