// Package checkpoint persists completed comparisons so an interrupted run
// can be resumed.
//
// A checkpoint directory holds a run manifest (run.yaml) and a record
// store. The default store is a tab-separated log, kernellog.tab or
// distlog.tab, with one banner comment line followed by
//
//	sample_a <TAB> sample_b <TAB> flat_index <TAB> value
//
// per comparison. Values are written with 17 significant digits so they
// read back bit for bit. BadgerStore keeps the same records in a badger
// database instead.
package checkpoint
