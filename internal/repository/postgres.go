package repository

import (
	"net"
	"net/url"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/opensource-finance/heron/internal/domain"
)

const postgresConnectTimeout = 10 // seconds

// postgresDSN builds a lib/pq URL. Credentials are escaped, so passwords
// may contain spaces, quotes or '@'.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "heron"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode(cfg.PostgresSSLMode))
	q.Set("application_name", "heron")
	q.Set("connect_timeout", strconv.Itoa(postgresConnectTimeout))

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + dbname,
		RawQuery: q.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}

func sslMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
