// Package telephony is a small Telnyx Call Control v2 client: outbound
// dial, speak and hangup commands plus webhook parsing and signature
// verification.
package telephony
