package db

import "mailpilot/pkg/config"

func configFixture() config.DBConfig {
	return config.DBConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "mail",
		Password: "pw",
		Name:     "mailpilot",
	}
}
