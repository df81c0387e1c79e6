package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// API groups the HTTP handlers of the chat service.
type API struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Messages *MessageHandler
	Groups   *GroupHandler
}

// Mount registers every route on r. All routes except signup and login go
// through requireAuth.
func (a *API) Mount(r *mux.Router, requireAuth func(http.Handler) http.Handler) {
	protect := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }

	r.HandleFunc("/signup", a.Auth.Signup).Methods("POST")
	r.HandleFunc("/login", a.Auth.Login).Methods("POST")

	r.Handle("/me", protect(a.Users.Me)).Methods("GET")
	r.Handle("/users/online", protect(a.Users.OnlineUsers)).Methods("GET")
	r.Handle("/users/{id:[0-9]+}", protect(a.Users.Get)).Methods("GET")
	r.Handle("/users/{id:[0-9]+}/online", protect(a.Users.IsOnline)).Methods("GET")
	r.Handle("/users/{id:[0-9]+}/follow", protect(a.Users.Follow)).Methods("POST")
	r.Handle("/users/{id:[0-9]+}/follow", protect(a.Users.Unfollow)).Methods("DELETE")

	r.Handle("/messages/unread", protect(a.Messages.Unread)).Methods("GET")
	r.Handle("/messages/{userId:[0-9]+}", protect(a.Messages.History)).Methods("GET")

	r.Handle("/groups", protect(a.Groups.CreateGroup)).Methods("POST")
	r.Handle("/groups", protect(a.Groups.ListGroups)).Methods("GET")
	r.Handle("/groups/{id:[0-9]+}", protect(a.Groups.DeleteGroup)).Methods("DELETE")
	r.Handle("/groups/{id:[0-9]+}/members", protect(a.Groups.Members)).Methods("GET")
	r.Handle("/groups/{id:[0-9]+}/members", protect(a.Groups.AddMember)).Methods("POST")
	r.Handle("/groups/{id:[0-9]+}/members/{userId:[0-9]+}", protect(a.Groups.RemoveMember)).Methods("DELETE")
	r.Handle("/groups/{id:[0-9]+}/messages", protect(a.Groups.Messages)).Methods("GET")
}
