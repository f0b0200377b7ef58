package config

import (
	"fmt"
	"strconv"
	"time"
)

// Server configures cmd/sheetload-web.
type Server struct {
	Addr           string
	MaxUploadBytes int64
	SessionTTL     time.Duration
}

const (
	defaultAddr           = ":8080"
	defaultMaxUploadBytes = 100 << 20
	defaultSessionTTL     = 30 * time.Minute
)

// LoadServer reads SHEETLOAD_ADDR, SHEETLOAD_MAX_UPLOAD_BYTES and
// SHEETLOAD_SESSION_TTL through getenv. Unset values take defaults.
func LoadServer(getenv func(string) string) (Server, error) {
	s := Server{Addr: defaultAddr, MaxUploadBytes: defaultMaxUploadBytes, SessionTTL: defaultSessionTTL}

	if v := getenv("SHEETLOAD_ADDR"); v != "" {
		s.Addr = v
	}
	if v := getenv("SHEETLOAD_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Server{}, fmt.Errorf("config: SHEETLOAD_MAX_UPLOAD_BYTES=%q: want a positive integer", v)
		}
		s.MaxUploadBytes = n
	}
	if v := getenv("SHEETLOAD_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Server{}, fmt.Errorf("config: SHEETLOAD_SESSION_TTL=%q: want a positive duration", v)
		}
		s.SessionTTL = d
	}
	return s, nil
}
