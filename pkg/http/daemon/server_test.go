package daemon

import (
	"testing"

	"github.com/ragchat/bluegreen/pkg/http"
)

func TestRouterImplementsServer(t *testing.T) {
	router := NewRouter()
	// Calling NewHandler attaches handlers to the router
	NewHandler(nil, router, nil)
	err := http.ImplementsServer(router)
	if err != nil {
		t.Error(err)
	}
}
