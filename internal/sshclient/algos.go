package sshclient

import "golang.org/x/crypto/ssh"

// insecureExtraKexAlgos extends the modern default kex list with legacy
// algorithms for reaching old appliances, in the exact order spec §6
// specifies: curve25519-sha256@libssh.org, ECDH P-256/P-384/P-521, DH
// group14/group16, then the two OpenSSH strict-kex extensions.
var insecureExtraKexAlgos = []string{
	"curve25519-sha256@libssh.org",
	"ecdh-sha2-nistp256",
	"ecdh-sha2-nistp384",
	"ecdh-sha2-nistp521",
	"diffie-hellman-group14-sha256",
	"diffie-hellman-group16-sha512",
	"kex-strict-c-v00@openssh.com",
	"kex-strict-s-v00@openssh.com",
}

// kexAlgos returns the key-exchange preference list for a connection:
// x/crypto/ssh's supported defaults, extended with the legacy set above
// when allowInsecure is set (any algorithm already present is not
// duplicated).
func kexAlgos(allowInsecure bool) []string {
	base := ssh.SupportedAlgorithms().KeyExchanges
	if !allowInsecure {
		return base
	}
	return appendMissing(base, insecureExtraKexAlgos)
}

func appendMissing(base []string, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, a := range base {
		seen[a] = true
	}
	out := append([]string(nil), base...)
	for _, a := range extra {
		if !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	return out
}
