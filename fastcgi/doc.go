// Package fastcgi implements the application side of the FastCGI binary
// protocol: a transceiver that talks non-blocking, poll-driven I/O to a
// front-end web server, a manager that owns connections and in-flight
// requests, and a per-request state machine that an embedding application
// drives by supplying a Handler.
//
// The package does not open listening sockets itself; the parent process
// (nginx, Apache, lighttpd, or a process supervisor acting in their place)
// passes an already-bound, already-listening file descriptor, conventionally
// fd 0.
package fastcgi
