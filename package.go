// Comfytrace reads the workflow graph that ComfyUI embeds in the images it saves,
// rebuilds the node graph, and works out which prompts and LoRAs were actually in
// effect by following the conditioning chain back from each sampler. It can also
// tell which node types in a workflow are built in, installed as custom nodes,
// or missing from a local installation.
package comfytrace
