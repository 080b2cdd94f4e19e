package compute

// particleWGSL advances particles one step: integrate position, reflect off
// the axis-aligned bounds, clamp speed. The CPU fallback in cpu.go performs
// the same operations in the same order; keep the two in sync.
const particleWGSL = `
struct Particle {
    pos: vec4<f32>,
    vel: vec4<f32>,
};

struct SimParams {
    delta_time: f32,
    max_velocity: f32,
    bounds_min: f32,
    bounds_max: f32,
    particle_count: u32,
    _pad0: u32,
    _pad1: u32,
    _pad2: u32,
};

@group(0) @binding(0) var<storage, read_write> particles: array<Particle>;
@group(0) @binding(1) var<uniform> params: SimParams;
@group(0) @binding(2) var<storage, read> masses: array<f32>;

@compute @workgroup_size(256)
fn update_particles(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.particle_count) {
        return;
    }
    // Non-positive mass pins the particle in place.
    if (masses[i] <= 0.0) {
        return;
    }

    var p = particles[i];

    p.pos = vec4<f32>(p.pos.xyz + p.vel.xyz * params.delta_time, p.pos.w);

    // Reflect each axis independently off the bounding cube.
    for (var axis = 0u; axis < 3u; axis = axis + 1u) {
        if (p.pos[axis] < params.bounds_min) {
            p.pos[axis] = params.bounds_min;
            p.vel[axis] = -p.vel[axis];
        } else if (p.pos[axis] > params.bounds_max) {
            p.pos[axis] = params.bounds_max;
            p.vel[axis] = -p.vel[axis];
        }
    }

    let speed = length(p.vel.xyz);
    if (speed > params.max_velocity) {
        let scaled = p.vel.xyz * (params.max_velocity / speed);
        p.vel = vec4<f32>(scaled, p.vel.w);
    }

    particles[i] = p;
}
`
