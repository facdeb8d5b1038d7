package session

import "marketchat/internal/config"

// Resolve determines the session uid using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "" (caller rejects: the daemon cannot guess an identity)
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return ""
}
