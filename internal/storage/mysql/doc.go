// Package mysql persists the completion journal written by the event listener.
// It ships a file-backed journal for local runs and a MySQL journal with
// embedded schema migrations.
package mysql
