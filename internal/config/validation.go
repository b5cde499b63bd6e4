package config

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"

	"github.com/lycheefs/lycheefs/pkg/cache"
	"github.com/lycheefs/lycheefs/pkg/models"
	"github.com/lycheefs/lycheefs/pkg/tree"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	register("quality", func(s string) error { _, err := models.ParseQuality(s); return err })
	register("cache_policy", func(s string) error { _, err := cache.ParsePolicy(s); return err })
	register("collisions", func(s string) error { _, err := tree.ParseCollisionPolicy(s); return err })
	register("on_error", func(s string) error { _, err := tree.ParseFailurePolicy(s); return err })
	register("bytesize", func(s string) error { _, err := humanize.ParseBytes(s); return err })
}

// register adds a string tag backed by a parse function.
func register(tag string, parse func(string) error) {
	_ = validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return parse(fl.Field().String()) == nil
	})
}

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.DefaultInstance != "" {
		if _, ok := cfg.Instances[cfg.DefaultInstance]; !ok {
			return fmt.Errorf("default_instance: %q is not configured", cfg.DefaultInstance)
		}
	}
	for name, inst := range cfg.Instances {
		if inst.Password != "" && inst.User == "" {
			return fmt.Errorf("instances.%s: password set without user", name)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
