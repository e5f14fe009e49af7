// Package async provides safe detached execution for background tasks.
//
// The gateway schedules work that must outlive the HTTP response that
// triggered it: package warmups and WinGet index rebuilds. SafeGo runs such a
// task on a context detached from the request's cancellation, with panic
// recovery and a timeout.
package async
