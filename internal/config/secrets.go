package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Longport.AppKey)
	redact(&out.Longport.AppSecret)
	redact(&out.Longport.AccessToken)
	redact(&out.Server.APIKey)
	redact(&out.Notify.PushPlusToken)
	redact(&out.Notify.PushPlusWebhook)
	redact(&out.Notify.WeComKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Broker.Holdings = cloneSlice(cfg.Broker.Holdings)
	out.Risk.Bands = cloneSlice(cfg.Risk.Bands)
	out.SellRules.Disabled = cloneSlice(cfg.SellRules.Disabled)
	out.Server.CORSOrigins = cloneSlice(cfg.Server.CORSOrigins)
	out.Notify.Events = cloneSlice(cfg.Notify.Events)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
