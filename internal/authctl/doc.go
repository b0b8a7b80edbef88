// Package authctl implements the operator command line: schema
// migrations, bootstrapping an admin account, granting roles and checking
// that a server answers.
package authctl
