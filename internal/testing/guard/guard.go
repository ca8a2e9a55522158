package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("EXPENSIO_TEST_MODE") == "" {
			_ = os.Setenv("EXPENSIO_TEST_MODE", "1")
		}
	})
}
