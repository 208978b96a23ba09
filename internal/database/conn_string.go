package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/exaroton/internal/config"
)

// ApplicationName identifies recorder sessions in pg_stat_activity.
const ApplicationName = "exawatch"

// BuildConnString builds a PostgreSQL URL from config. Credentials are
// escaped and IPv6 hosts are bracketed.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
		RawQuery: url.Values{
			"sslmode":          {sslMode},
			"application_name": {ApplicationName},
		}.Encode(),
	}
	return u.String()
}
