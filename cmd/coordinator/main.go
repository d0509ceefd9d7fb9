// Command coordinator is the cobra-based CLI binary that wires together
// the Session & Worktree Coordinator, Claim Manager, Sandbox Manager,
// Parallel Executor, and Merge Watcher. It contains no business logic of
// its own (spec.md §1 treats the CLI surface as an external collaborator)
// — every subcommand is a thin adapter over the internal/* packages.
package main

func main() {
	Execute()
}
