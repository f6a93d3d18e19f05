package cli

import (
	"fmt"

	"anonchat/internal/app"
	"anonchat/internal/config"
	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/redact"
)

// participant opens the application and returns the session of the
// identity stored at cfg.IdentityPath, creating the identity on first use.
func participant(cfg *config.Config, application *app.App) (*identity.Session, error) {
	id, created, err := identity.LoadOrCreate(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if created {
		logger.Infof("cli: created identity %s at %s", redact.Identity(id.String()), cfg.IdentityPath)
	}

	if err := application.Open(); err != nil {
		return nil, err
	}
	return application.Sessions().Get(id)
}
