// Package main is the bridge command line.
//
// Commands:
//
//	bridge exec -e 'return 1 + 1'     run a script in the sandbox, print the JSON result
//	bridge exec -f a.js -f b.js       run several scripts in order
//	bridge dev                        relay + executor + build watcher in one process
//	bridge executor                   serve the sandbox room against a running relay
//	bridge rooms                      print room membership
//
// exec exits 2 when a call times out, 3 when the script throws and 4 when
// the relay or executor cannot be reached.
package main
