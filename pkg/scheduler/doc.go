// Package scheduler drives periodic register reads across many PLCs.
//
// A single tick visits every device. Connected devices whose poll interval
// has elapsed get a read; devices whose reconnect backoff has expired get
// a connect. Each operation runs on its own goroutine, so a slow or dead
// device never delays the others. At most one operation is outstanding per
// device; ticks that find one are counted as skipped.
//
// Successful reads go to the Publisher. Faults go to the device's
// connection.Supervisor, which suspends polling until a reconnect
// succeeds.
package scheduler
