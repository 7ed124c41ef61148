package stratum

import "fmt"

// CredMode selects how the mining.authorize username is assembled.
type CredMode string

const (
	// CredModeWalletAsUser formats the username as wallet[.worker].
	CredModeWalletAsUser CredMode = "wallet_as_user"
	// CredModeAccountWorker formats the username as account.worker.
	CredModeAccountWorker CredMode = "account_worker"
)

// Profile is a pool-vendor hint affecting credential formatting.
type Profile string

const (
	ProfileGeneric Profile = "generic"
	ProfileViaBTC  Profile = "viabtc"
	ProfileF2Pool  Profile = "f2pool"
)

// Credentials holds the raw identity fields configured for a pool.
type Credentials struct {
	Wallet  string
	Account string
	Worker  string
}

// FormatCredentials assembles the mining.authorize username per the
// pool's cred_mode, independent of profile (profile exists only as a
// vendor hint for future formatting quirks; generic formatting matches
// both ViaBTC and F2Pool today).
func FormatCredentials(mode CredMode, profile Profile, creds Credentials) string {
	switch mode {
	case CredModeAccountWorker:
		if creds.Worker == "" {
			return creds.Account
		}
		return fmt.Sprintf("%s.%s", creds.Account, creds.Worker)
	default: // CredModeWalletAsUser
		if creds.Worker == "" {
			return creds.Wallet
		}
		return fmt.Sprintf("%s.%s", creds.Wallet, creds.Worker)
	}
}
