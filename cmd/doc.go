// Package cmd implements the mailbrief command line interface.
package cmd
