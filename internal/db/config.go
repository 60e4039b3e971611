package db

import (
	"fmt"
	"os"
	"strings"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	// DriverMemory 不落盘，重启即丢失
	DriverMemory = "memory"
)

type Config struct {
	Driver string
	DSN    string
}

func LoadConfig() *Config {
	driver := strings.ToLower(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = DriverSQLite
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		// 兼容旧的 MYSQL_DSN
		dsn = os.Getenv("MYSQL_DSN")
	}
	if dsn == "" && driver == DriverSQLite {
		dsn = "./data/agrodetect.db"
	}
	return &Config{
		Driver: driver,
		DSN:    dsn,
	}
}

func (c *Config) Print() {
	fmt.Println("DB Driver:", c.Driver)
	if c.Driver == DriverSQLite {
		fmt.Println("DB DSN:", c.DSN)
	}
}
