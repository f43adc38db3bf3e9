package app

import (
	"context"
	"fmt"

	"integrity-scm/internal/config"
	"integrity-scm/internal/integrity"
	"integrity-scm/internal/session"
)

// credentialFactory reads the server password only when a session is
// actually opened, so offline commands work without credentials.
type credentialFactory struct {
	server config.ServerConfig
	creds  integrity.CredentialStore
	runner session.Runner
	logger integrity.Logger
}

var _ integrity.SessionFactory = (*credentialFactory)(nil)

func (f *credentialFactory) NewSession(ctx context.Context) (integrity.Session, error) {
	password, err := f.creds.Password()
	if err != nil {
		return nil, fmt.Errorf("reading server password: %w", err)
	}
	factory := session.NewExecFactory(session.Config{
		SIPath:   f.server.SIPath,
		Host:     f.server.Host,
		Port:     f.server.Port,
		User:     f.server.User,
		Password: password,
	}, f.runner, f.logger)
	return factory.NewSession(ctx)
}
