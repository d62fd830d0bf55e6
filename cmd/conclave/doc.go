// Command conclave runs the multi-provider consensus engine as an HTTP
// service.
//
// Usage:
//
//	conclave serve                      # start the service
//	conclave serve --config conf.yaml   # with a config file
//	conclave version                    # show version information
//	conclave health                     # probe a running instance
package main
