package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The selected target must name its destination
	switch cfg.Target.Type {
	case "filesystem":
		if stringOption(cfg.Target.Filesystem, "path") == "" {
			return fmt.Errorf("target.filesystem.path: destination directory is required")
		}
	case "s3":
		if stringOption(cfg.Target.S3, "bucket") == "" {
			return fmt.Errorf("target.s3.bucket: destination bucket is required")
		}
	}

	if cfg.Source.Type == "mongo" &&
		stringOption(cfg.Source.Mongo, "uri") == "" &&
		stringOption(cfg.Source.Mongo, "host") == "" {
		return fmt.Errorf("source.mongo: either uri or host must be set")
	}

	if cfg.Migration.Burst > 0 && cfg.Migration.RateLimit == 0 {
		return fmt.Errorf("migration.burst: requires migration.rate_limit to be set")
	}

	return nil
}

// stringOption returns m[key] when it is a string, and "" otherwise.
func stringOption(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
