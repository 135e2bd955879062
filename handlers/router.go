// quotebook/handlers/router.go

package handlers

import (
	"net/http"

	"quotebook/database"
	"quotebook/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)
	var s3PublicURL string
	if s3Store, ok := app.Storage().(*utils.S3Storage); ok {
		s3PublicURL = s3Store.PublicURL
	}
	mux.Use(NewSecurityHeadersMiddleware(s3PublicURL))
	mux.Use(AuthMiddleware(app))
	mux.Use(CSRFMiddleware(app))

	// Uploaded images are only served from here when kept on local disk.
	if ls, ok := app.Storage().(*utils.LocalStorage); ok {
		prefix := utils.MediaURLPrefix
		mux.Handle(prefix+"*", http.StripPrefix(prefix, http.FileServer(http.Dir(ls.MediaDir))))
	}

	mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", MakeHandler(app, HandleLogin))
		r.Post("/logout", MakeHandler(app, HandleLogout))
		r.With(RequireUser(app)).Get("/user", MakeHandler(app, HandleCurrentUser))
	})

	mux.Route("/api", func(r chi.Router) {
		// Public sign-up
		r.Get("/account-requests/challenge", MakeHandler(app, HandleNewChallenge))
		r.Post("/account-requests", MakeHandler(app, HandleCreateAccountRequest))

		r.Group(func(r chi.Router) {
			r.Use(RequireUser(app))

			r.Route("/quotes", func(r chi.Router) {
				r.Get("/", MakeHandler(app, HandleListQuotes))
				r.Post("/", MakeHandler(app, HandleCreateQuote))
				r.Get("/submitted", MakeHandler(app, HandleQuoteQueue(database.QueueSubmitted)))
				r.Get("/unrated", MakeHandler(app, HandleQuoteQueue(database.QueueUnrated)))
				r.Get("/unrated/count", MakeHandler(app, HandleQuoteQueueCount(database.QueueUnrated)))
				r.Get("/unapproved", MakeHandler(app, HandleQuoteQueue(database.QueueUnapproved)))
				r.Get("/unapproved/count", MakeHandler(app, HandleQuoteQueueCount(database.QueueUnapproved)))
				r.Get("/flagged", MakeHandler(app, HandleQuoteQueue(database.QueueFlagged)))
				r.Get("/flagged/count", MakeHandler(app, HandleQuoteQueueCount(database.QueueFlagged)))

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", MakeHandler(app, HandleGetQuote))
					r.Put("/", MakeHandler(app, HandleUpdateQuote))
					r.Patch("/", MakeHandler(app, HandleUpdateQuote))
					r.Delete("/", MakeHandler(app, HandleDeleteQuote))
					r.Get("/edit", MakeHandler(app, HandleEditQuote))
					r.Post("/flag", MakeHandler(app, HandleFlagQuote))
					r.Post("/vote", MakeHandler(app, HandleVote))
					r.Get("/lines", MakeHandler(app, HandleListLines))
					r.Post("/lines", MakeHandler(app, HandleAddLine))
				})
			})

			r.Patch("/lines/{id}", MakeHandler(app, HandleUpdateLine))
			r.Delete("/lines/{id}", MakeHandler(app, HandleDeleteLine))

			r.Route("/signatures", func(r chi.Router) {
				r.Get("/", MakeHandler(app, HandleListSignatures))
				r.Post("/submit", MakeHandler(app, HandleSubmitSignature))
				r.Post("/refuse", MakeHandler(app, HandleRefuseSignature))
				r.Get("/pending", MakeHandler(app, HandlePendingSignatures))
				r.Get("/pending/count", MakeHandler(app, HandlePendingSignatureCount))
				r.Delete("/{id}", MakeHandler(app, HandleDeleteSignature))
			})

			r.Get("/users", MakeHandler(app, HandleListUsers))

			// Administration
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin(app))
				r.Get("/account-requests", MakeHandler(app, HandleListAccountRequests))
				r.Post("/account-requests/{id}/approve", MakeHandler(app, HandleApproveAccountRequest))
				r.Delete("/account-requests/{id}", MakeHandler(app, HandleRejectAccountRequest))

				r.Route("/admin", func(r chi.Router) {
					r.Get("/users", MakeHandler(app, HandleAdminListUsers))
					r.Get("/users/unapproved/count", MakeHandler(app, HandleUnapprovedUserCount))
					r.Patch("/users/{id}", MakeHandler(app, HandleUpdateUser))
					r.Delete("/users/{id}", MakeHandler(app, HandleDeleteUser))
					r.Post("/jobs/refuse-stale", MakeHandler(app, HandleRefuseStale))
					r.Post("/backup", MakeHandler(app, HandleDatabaseBackup))
					r.Get("/log", MakeHandler(app, HandleModLog))
				})
			})
		})
	})

	return mux
}
