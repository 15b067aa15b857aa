// Package callcontrol places scheduled calls and drives them through the
// Telnyx webhook flow: when the callee answers a joke is spoken, and when
// speaking ends the call is hung up.
//
// Service implements scheduler.Handler[CallRequest]. Webhook follow-ups run
// on the task engine so the HTTP handler returns immediately.
package callcontrol
