package chainstate

import (
	"github.com/cryonero/cryonerod/infrastructure/logger"
	"github.com/cryonero/cryonerod/util/panics"
)

var log = logger.RegisterSubSystem("CHST")
var spawn = panics.GoroutineWrapperFunc(log)
