package http

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/application/service"
	"github.com/taskflowhq/taskflow/internal/token"
)

// The approval link lands in an email client, so the terminal page has to be
// self-contained and readable without any assets.
var approvalPageTmpl = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Heading}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif;
         background: #f5f6f8; margin: 0; padding: 40px 16px; }
  .card { max-width: 480px; margin: 0 auto; background: #fff;
          border-radius: 8px; padding: 32px; text-align: center;
          box-shadow: 0 1px 4px rgba(0,0,0,.08); }
  h1 { font-size: 20px; margin: 0 0 12px; color: {{.Color}}; }
  p { color: #555; line-height: 1.5; margin: 0; }
</style>
</head>
<body>
<div class="card">
  <h1>{{.Heading}}</h1>
  <p>{{.Message}}</p>
</div>
</body>
</html>
`))

type approvalPage struct {
	Heading string
	Message string
	Color   string
}

// RedeemApprovalLink handles GET /approval/:token. Every outcome renders a
// human-readable page rather than JSON: the caller is a person clicking a
// link in an email, not an API client.
func (h *Handlers) RedeemApprovalLink(c *gin.Context) {
	t, err := h.tokenService.Redeem(c.Request.Context(), c.Param("token"))
	if err != nil {
		status, page := approvalErrorPage(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Token redemption failed", "error", err)
		}
		h.renderApprovalPage(c, status, page)
		return
	}

	heading := "Decision recorded"
	message := "Your decision on \"" + t.Title + "\" has been recorded. You can close this page."
	h.renderApprovalPage(c, http.StatusOK, approvalPage{
		Heading: heading,
		Message: message,
		Color:   "#1a7f37",
	})
}

// approvalErrorPage maps redemption failures onto the page taxonomy. The
// wording deliberately avoids leaking task details to holders of bad tokens.
func approvalErrorPage(err error) (int, approvalPage) {
	switch {
	case errors.Is(err, token.ErrTokenAlreadyUsed):
		return http.StatusConflict, approvalPage{
			Heading: "Already processed",
			Message: "This approval link has already been used. Each link works exactly once.",
			Color:   "#9a6700",
		}
	case errors.Is(err, service.ErrAlreadyFinalized):
		return http.StatusConflict, approvalPage{
			Heading: "Already processed",
			Message: "A decision has already been made on this task.",
			Color:   "#9a6700",
		}
	case errors.Is(err, token.ErrTokenExpired):
		return http.StatusGone, approvalPage{
			Heading: "Link expired",
			Message: "This approval link has expired. Please request a fresh one from the task page.",
			Color:   "#9a6700",
		}
	case errors.Is(err, token.ErrTokenScopeMismatch),
		errors.Is(err, service.ErrNotAuthorized):
		return http.StatusForbidden, approvalPage{
			Heading: "Not authorized",
			Message: "This link cannot be used for that decision.",
			Color:   "#cf222e",
		}
	case errors.Is(err, token.ErrTokenInvalid),
		errors.Is(err, port.ErrNotFound):
		return http.StatusNotFound, approvalPage{
			Heading: "Link not recognized",
			Message: "This approval link is not valid. Check that the full link was copied.",
			Color:   "#cf222e",
		}
	}
	return http.StatusInternalServerError, approvalPage{
		Heading: "Something went wrong",
		Message: "Your decision could not be processed right now. Please try again later.",
		Color:   "#cf222e",
	}
}

func (h *Handlers) renderApprovalPage(c *gin.Context, status int, page approvalPage) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := approvalPageTmpl.Execute(c.Writer, page); err != nil {
		h.logger.Error("Failed to render approval page", "error", err)
	}
}
