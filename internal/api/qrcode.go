package api

import (
	"net/http"

	"github.com/gorilla/mux"
	qrcode "github.com/skip2/go-qrcode"
)

// handleLiveQRCode renders a PNG QR code pointing at the live's share URL.
func (a *API) handleLiveQRCode(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.Lives.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	size := int(queryInt(r, "size", 256))
	if size < 64 || size > 1024 {
		size = 256
	}
	png, err := qrcode.Encode(a.shareURL(sess.ID), qrcode.Medium, size)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(png)
}

func (a *API) shareURL(liveID string) string {
	return a.config.WebUIBaseURL + "/lives/" + liveID
}
