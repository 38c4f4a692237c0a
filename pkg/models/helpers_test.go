package models_test

import "time"

var fixedNow = time.Date(2024, 3, 17, 10, 0, 0, 0, time.UTC)
