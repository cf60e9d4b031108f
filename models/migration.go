package models

import (
	"log"

	"bitbucket.org/edufocus/lending_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Loan{},
		&Sanction{},
		&Notification{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
