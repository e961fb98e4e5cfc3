// Package core defines the boundary between the engine and its
// translators. A Translator serves one physical source: it declares the
// source's capabilities, hands out connections and creates executions for
// the commands of atomic requests. Executions return rows one at a time and
// may signal, through DataNotAvailableError, that the source has nothing
// ready yet.
package core
