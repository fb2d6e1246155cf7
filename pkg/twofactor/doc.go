// Package twofactor implements TOTP two-factor authentication.
//
// Secrets are 20 random bytes (base32), codes are 6 digits with a 30 second
// period, SHA1, and one step of clock skew in either direction. Setup also
// returns ten single-use backup codes and a PNG QR code of the otpauth URI.
//
// A record moves from set up (disabled) to enabled via Enable and back via
// Disable, which needs the account password as well as a code. Service
// implements auth.SecondFactor so login can demand a code once 2FA is on.
package twofactor
