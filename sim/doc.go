// Package sim provides the TokenLab token-economy simulation engine.
//
// # Reading Guide
//
// Start with these three files to understand one simulated step:
//   - controller.go: the Controller base, capabilities, and dependency links
//   - agentpool.go: agent pools that turn users and transactions into volume
//   - economy.go: TokenEconomy.Execute, the fixed per-iteration pipeline
//
// # Architecture
//
// A TokenEconomy owns its controllers: one supply, one holding time, one
// price function, any number of agent pools, and auxiliary supply pools.
// Controllers reach the economy and their pool only through typed links set
// by Link(tag, dep); there are no back-pointers beyond those.
//
// An Ecosystem steps several economies in lockstep. Sub-packages:
//   - sim/montecarlo/: repeated runs and their statistical reports
//   - sim/trace/: halt and spawn recording
//   - sim/export/: CSV and SQLite output of result tables
//
// # Randomness
//
// Every stochastic controller draws from a stream handed out by a
// PartitionedRNG. Streams are named after the controller's position in the
// economy, so a run is reproducible from its seed regardless of execution
// order or worker count.
//
// # Key Interfaces
//
//   - UserGrowth: number of users per step
//   - TransactionManagement: transaction value per step
//   - SupplyController: circulating supply change per step
//   - HoldingTimeController: average holding time
//   - PriceFunctionController: token price from the step's volume
//   - AgentPool: a group of agents with its own controllers
//   - Simulation: anything the meta-simulator can repeat
//
// Scenarios are described in YAML and turned into a Simulation by
// Scenario.Build.
package sim
