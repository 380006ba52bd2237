package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// newValidator reports fields by their dotted config key rather than the Go
// field path.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field rules from the struct tags, then the rules that
// depend on which backend is selected.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, describe(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return c.validateSections()
}

func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s: %v is not one of [%s]", key, fe.Value(), fe.Param())
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", key, fe.Param())
	default:
		return fmt.Sprintf("%s: %v fails %s=%s", key, fe.Value(), fe.Tag(), fe.Param())
	}
}

func (c *Config) validateSections() error {
	switch c.Storage.DefaultBackend {
	case "local":
		if c.Storage.Local.BasePath == "" {
			return errors.New("storage.local.base_path is required with the local backend")
		}
	case "s3":
		s3 := c.Storage.S3
		if s3.Bucket == "" || s3.Region == "" {
			return errors.New("storage.s3.bucket and storage.s3.region are required with the s3 backend")
		}
		if s3.ServerSideEncryption == "aws:kms" && s3.KMSKeyID == "" {
			return errors.New("storage.s3.kms_key_id is required with aws:kms encryption")
		}
	}

	if c.Cache.Backend == "redis" && c.Cache.Redis.Address == "" {
		return errors.New("cache.redis.address is required with the redis cache")
	}
	return nil
}
