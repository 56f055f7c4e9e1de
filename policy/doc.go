// Package policy decides how hosts are classified for placement and how much
// capacity each host permanently withholds from allocation.
package policy
