// Package crypto provides punchchat's identity and secret handling.
//
// A user identity is an ed25519 keypair derived deterministically from a
// secret string, so the same secret always maps to the same libp2p peer id:
//
//	id, err := crypto.DeriveIdentity(secret)
//	if err != nil {
//		return err
//	}
//	fmt.Println(id.ID)
//
// Secrets are generated with [GenerateSecret] and persisted by a
// [SecretStore]. [FileSecretStore] writes a 0600 file under
// $HOME/.punchchat; [EncryptedSecretStore] additionally encrypts it with
// AES-256-GCM under a PBKDF2-derived key.
package crypto
