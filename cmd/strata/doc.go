// Command strata runs the tiered context memory service.
//
//	strata serve --config strata.yaml   # run the background cadence and metrics endpoint
//	strata sweep                        # run one tier migration pass
//	strata warm --agent coder           # run one cache warming pass
//	strata stats                        # print tracker and store statistics
//	strata version                      # show version information
package main
