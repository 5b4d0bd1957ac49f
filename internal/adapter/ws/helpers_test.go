package ws

import "net/http"

func httpHandler(v *LiveView) http.Handler {
	return http.HandlerFunc(v.HandleWS)
}
