// Package deps checks that external programs are installed.
package deps
