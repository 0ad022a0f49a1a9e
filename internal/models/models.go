package models

// AllModels lists every table AutoMigrate manages.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Order{},
		&Payment{},
		&PaymentCallbackHistory{},
		&ScheduledTask{},
		&ScheduledTaskHistory{},
	}
}
