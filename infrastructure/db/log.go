package db

import (
	"github.com/cryonero/cryonerod/infrastructure/logger"
)

var log = logger.RegisterSubSystem("LVDB")
