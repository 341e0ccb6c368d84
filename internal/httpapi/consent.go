package httpapi

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"pkt.systems/grantd/internal/core"
)

// consentTemplate re-posts the original authorization query with the
// owner's decision appended, so the decision endpoint can re-validate the
// request instead of trusting hidden form fields.
var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize {{.ClientID}}</title></head>
<body>
<h1>Authorization request</h1>
<p><strong>{{.ClientID}}</strong> wants access to: <strong>{{.Scope}}</strong></p>
<form method="post">
<button type="submit" formaction="?{{.Query}}&allow=true">Allow</button>
<button type="submit" formaction="?{{.Query}}&allow=false">Deny</button>
</form>
</body>
</html>
`))

type consentPage struct {
	ClientID string
	Scope    string
	Query    template.URL
}

func renderConsentPage(w http.ResponseWriter, pending core.Pending, query url.Values) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	err := consentTemplate.Execute(w, consentPage{
		ClientID: pending.Client.ID,
		Scope:    pending.Scope.String(),
		Query:    template.URL(query.Encode()),
	})
	if err != nil {
		return fmt.Errorf("render consent page: %w", err)
	}
	return nil
}
