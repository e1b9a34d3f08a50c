package handlers

type Handlers struct {
	SessionHandler *SessionHandler
}

func NewHandlers(store SessionStore, apiKey string) *Handlers {
	return &Handlers{
		SessionHandler: NewSessionHandler(store, apiKey),
	}
}
