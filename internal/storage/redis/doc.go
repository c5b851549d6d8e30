// Package redis keeps the event listener's cursor in Redis so a restarted
// listener resumes after the last processed event.
package redis
