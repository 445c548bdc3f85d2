// Package commands implements the punchchat CLI.
//
//	punchchat new                 create and store a secret, shown once
//	punchchat import <secret>     store an existing secret
//	punchchat id                  print the peer id of the stored secret
//	punchchat passwd              set or change the secret's passphrase
//	punchchat start --mode listen --name alice
//	punchchat start --mode dial --name bob --remote-id <alice's peer id>
//
// The state directory defaults to ~/.punchchat. With -p the stored secret
// is encrypted under a prompted passphrase.
package commands
