// Package views renders the HTMX fragments served by the dashboard: the
// error alert and the processing banner.
package views

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/ingest"
)

// BannerID is the element id the banner swaps itself into.
const BannerID = "processing-banner"

// ErrorAlert renders a user-facing error with its action and support code.
func ErrorAlert(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p class="alert-message">%s</p>`,
			templ.EscapeString(msg.Message))
		if err != nil {
			return err
		}
		if msg.Action != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(msg.Action)); err != nil {
				return err
			}
		}
		if msg.Code != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-code">Kod: %s</p>`, templ.EscapeString(msg.Code)); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, `</div>`)
		return err
	})
}

// ProcessingBanner renders the poller state. While a batch is active the
// fragment polls pollURL every second; terminal states stop polling.
func ProcessingBanner(snap ingest.Snapshot, pollURL string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var body, class string
		switch snap.State {
		case ingest.Uploading:
			class = "banner banner-info"
			body = fmt.Sprintf("%d dosya yükleniyor…", snap.Pending)
		case ingest.AwaitingProcessing:
			class = "banner banner-info"
			body = fmt.Sprintf("Fişler işleniyor… (%d sn)", snap.SecondsLeft)
		case ingest.Reconciled:
			class = "banner banner-success"
			body = "Yeni fişler listeye eklendi."
		case ingest.TimedOut:
			class = "banner banner-warning"
			body = "İşlem beklenenden uzun sürüyor. Listeyi birazdan yenileyin."
		default:
			_, err := fmt.Fprintf(w, `<div id="%s"></div>`, BannerID)
			return err
		}

		poll := ""
		if snap.Active() {
			poll = fmt.Sprintf(` hx-get="%s" hx-trigger="every 1s" hx-swap="outerHTML"`, templ.EscapeString(pollURL))
		}
		_, err := fmt.Fprintf(w, `<div id="%s" class="%s" data-state="%s"%s>%s</div>`,
			BannerID, class, snap.State, poll, templ.EscapeString(body))
		return err
	})
}
