// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the clients that call sibling services.
var HTTPClient = &http.Client{
	Timeout: 10 * time.Second,
}
