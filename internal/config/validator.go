package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: TLS pairing
	if err := c.validateTLSPairing(); err != nil {
		return err
	}

	// Cross-field validation: store path requirement
	if err := c.validateStorePath(); err != nil {
		return err
	}

	// Cross-field validation: identity reference integrity
	if err := c.validateIdentityReferences(); err != nil {
		return err
	}

	// Cross-field validation: production posture requirements
	if err := c.validateProductionPosture(); err != nil {
		return err
	}

	return nil
}

// validateTLSPairing ensures TLS cert and key are set together.
func (c *Config) validateTLSPairing() error {
	hasCert := c.Server.TLSCert != ""
	hasKey := c.Server.TLSKey != ""
	if hasCert != hasKey {
		return errors.New("server: tls_cert and tls_key must be set together")
	}
	return nil
}

// validateStorePath requires a file path for persistent store kinds.
func (c *Config) validateStorePath() error {
	switch c.Store.Kind {
	case "sqlite", "journal":
		if c.Store.Path == "" {
			return fmt.Errorf("store: kind %q requires a path", c.Store.Kind)
		}
	}
	return nil
}

// validateIdentityReferences ensures all API key actor_id values reference
// seeded identities, and that anchor actors are seeded too.
func (c *Config) validateIdentityReferences() error {
	knownIdentities := make(map[string]struct{}, len(c.Auth.Identities))
	for _, identity := range c.Auth.Identities {
		knownIdentities[identity.ID] = struct{}{}
	}

	for i, apiKey := range c.Auth.APIKeys {
		if _, exists := knownIdentities[apiKey.ActorID]; !exists {
			return fmt.Errorf("api_keys[%d]: references unknown actor_id: %s", i, apiKey.ActorID)
		}
	}

	for i, anchor := range c.AnchorActors {
		if _, exists := knownIdentities[anchor]; !exists {
			return fmt.Errorf("anchor_actors[%d]: references unknown identity: %s", i, anchor)
		}
	}

	return nil
}

// validateProductionPosture enforces the stricter requirements of the
// production posture: an artifact on disk and no dev mode shortcuts.
func (c *Config) validateProductionPosture() error {
	if c.Artifact.Posture != PostureProduction {
		return nil
	}
	if c.DevMode {
		return errors.New("artifact: production posture is incompatible with dev_mode")
	}
	if c.Artifact.Path == "" {
		return errors.New("artifact: production posture requires an artifact path")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
