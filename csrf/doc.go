// Package csrf implements the double-submit cookie defense for authenticated,
// state-changing requests.
//
// The token travels three ways: as the X-CSRF-Token cookie, echoed by the
// client in the X-CSRF-Token header, and stored server-side bound to the user.
// A request passes only if all three copies are identical, unexpired and bound
// to the requesting user.
package csrf
